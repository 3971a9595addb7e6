package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		endpoint string
		useSSL   bool
		wantHost string
		wantSSL  bool
	}{
		{"https://s3.eu-central-1.amazonaws.com", false, "s3.eu-central-1.amazonaws.com", true},
		{"http://localhost:9000", true, "localhost:9000", false},
		{"minio.internal:9000", true, "minio.internal:9000", true},
		{"", false, "s3.amazonaws.com", true},
	}

	for _, tc := range cases {
		host, ssl := normalizeEndpoint(tc.endpoint, tc.useSSL)
		assert.Equal(t, tc.wantHost, host, "endpoint %q", tc.endpoint)
		assert.Equal(t, tc.wantSSL, ssl, "endpoint %q", tc.endpoint)
	}
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"projects/p/results/inference_x.tif":  "image/tiff",
		"projects/p/uploads/a/scene.TIFF":     "image/tiff",
		"projects/p/results/polygons_x.json":  "application/geo+json",
		"projects/p/results/polygons.ndjson":  "application/x-ndjson",
		"projects/p/results/readme.txt":       "application/octet-stream",
		"projects/p/results/no-extension-key": "application/octet-stream",
	}

	for key, want := range cases {
		assert.Equal(t, want, contentTypeFor(key), "key %q", key)
	}
}

func TestS3ObjectNamePrefix(t *testing.T) {
	t.Parallel()

	store := &S3Store{keyPrefix: "ftw"}
	assert.Equal(t, "ftw/projects/p/results/x.tif", store.objectName("projects/p/results/x.tif"))
	assert.Equal(t, "projects/p/results/x.tif", store.trimPrefix("ftw/projects/p/results/x.tif"))

	bare := &S3Store{}
	assert.Equal(t, "projects/p/results/x.tif", bare.objectName("projects/p/results/x.tif"))
	assert.Equal(t, "projects/p/results/x.tif", bare.trimPrefix("projects/p/results/x.tif"))
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateKey("projects/p/results/x.tif"))
	assert.Error(t, validateKey(""))
	assert.Error(t, validateKey("/absolute/key"))
	assert.Error(t, validateKey("projects/../../etc/passwd"))
}
