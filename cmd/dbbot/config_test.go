package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dbbot/pkg/config"
)

func TestRedactSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Postgres.Password = "pg-secret"
	cfg.Upload.S3.SecretAccessKey = "s3-secret"
	cfg.Upload.S3.AccessKeyID = "AKIA"
	cfg.API.Auth.Basic.Users = []config.BasicAuthUser{
		{Username: "ci", PasswordHash: "$2a$10$hash"},
	}

	out := redactSecrets(cfg)

	assert.Equal(t, redacted, out.Database.Postgres.Password)
	assert.Equal(t, redacted, out.Upload.S3.SecretAccessKey)
	assert.Equal(t, "AKIA", out.Upload.S3.AccessKeyID)
	assert.Equal(t, "ci", out.API.Auth.Basic.Users[0].Username)
	assert.Equal(t, redacted, out.API.Auth.Basic.Users[0].PasswordHash)

	// The input stays untouched.
	assert.Equal(t, "pg-secret", cfg.Database.Postgres.Password)
	assert.Equal(t, "$2a$10$hash", cfg.API.Auth.Basic.Users[0].PasswordHash)

	data, err := yaml.Marshal(out)
	assert.NoError(t, err)
	assert.NotContains(t, string(data), "s3-secret")
	assert.NotContains(t, string(data), "pg-secret")
}

func TestApplyLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		flagSet bool
		want    logrus.Level
		wantErr bool
	}{
		{name: "config level applied", level: "debug", want: logrus.DebugLevel},
		{name: "flag wins", level: "debug", flagSet: true, want: logrus.WarnLevel},
		{name: "empty keeps current", level: "", want: logrus.WarnLevel},
		{name: "invalid level", level: "loud", wantErr: true, want: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetLevel(logrus.WarnLevel)

			err := applyLogLevel(logger, tt.level, tt.flagSet)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}
