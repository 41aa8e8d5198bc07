package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/cuemby/ebspin/pkg/config"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "lower case", input: "5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44", want: "5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44"},
		{name: "upper case kept verbatim", input: "5D0F2C1A-9A43-4B0E-8F5E-0C7D3A1B2E44", want: "5D0F2C1A-9A43-4B0E-8F5E-0C7D3A1B2E44"},
		{name: "empty", input: "", wantErr: true},
		{name: "not a uuid", input: "my-volume", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIdentity(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    types.Tags
		wantErr bool
	}{
		{name: "none", input: nil, want: types.Tags{}},
		{name: "pairs", input: []string{"team=storage", "env=prod"}, want: types.Tags{"team": "storage", "env": "prod"}},
		{name: "value with equals", input: []string{"query=a=b"}, want: types.Tags{"query": "a=b"}},
		{name: "empty value", input: []string{"team="}, want: types.Tags{"team": ""}},
		{name: "missing equals", input: []string{"team"}, wantErr: true},
		{name: "missing key", input: []string{"=storage"}, wantErr: true},
		{name: "reserved name", input: []string{"Name=mine"}, wantErr: true},
		{name: "reserved identity", input: []string{"UUID=other"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"attach", "clean", "history", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

const throttledResponse = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Errors><Error><Code>RequestLimitExceeded</Code><Message>Request limit exceeded.</Message></Error></Errors><RequestID>3f1c2b7a-0000-4000-8000-000000000001</RequestID></Response>`

func TestEC2ClientAttemptsFollowRetryPolicy(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "text/xml;charset=UTF-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, throttledResponse)
	}))
	defer srv.Close()

	awsCfg := aws.Config{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String(srv.URL),
	}

	cfg := config.Default()
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond

	gw := gatewayFor(newEC2Client(awsCfg), cfg)
	_, err := gw.FindLatestVolume(context.Background(), "5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44")

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Equal(t, "RequestLimitExceeded", volume.ErrorCode(err))
	assert.Equal(t, int32(3), requests.Load())
}
