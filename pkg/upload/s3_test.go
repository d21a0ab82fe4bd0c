package upload

import (
	"testing"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{
			name: "default prefix",
			file: "index.html",
			want: "dbbot/reports/index.html",
		},
		{
			name:   "custom prefix",
			prefix: "ci/nightly",
			file:   "index.html",
			want:   "ci/nightly/index.html",
		},
		{
			name:   "trailing slash stripped",
			prefix: "ci/nightly/",
			file:   "robot_results.db",
			want:   "ci/nightly/robot_results.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, u.resolveKey(tt.file))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{name: "html report", path: "out/index.html", wantPrefix: "text/html"},
		{name: "sqlite database", path: "robot_results.db", wantPrefix: "application/vnd.sqlite3"},
		{name: "upper case extension", path: "RESULTS.SQLITE", wantPrefix: "application/vnd.sqlite3"},
		{name: "no extension", path: "out/Makefile", wantPrefix: "application/octet-stream"},
		{name: "json file", path: "out/summary.json", wantPrefix: "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{Enabled: true})
	require.Error(t, err)

	u, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{
		Enabled: true,
		Bucket:  "reports",
		Region:  "eu-west-1",
	})
	require.NoError(t, err)
	assert.NotNil(t, u)
}
