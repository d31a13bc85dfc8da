package settings_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/awheeler/certmint/settings"
)

func TestWithDefaults(t *testing.T) {
	s := settings.Settings{Server: "ca.example.com"}.WithDefaults()

	assert.Equal(t, settings.DefaultPort, s.Port)
	assert.Equal(t, settings.DefaultAPIEndpoint, s.APIEndpoint)
	assert.Equal(t, settings.DefaultAPIVersion, s.APIVersion)
	assert.Equal(t, settings.DefaultKeyLength, s.KeyLength)
	assert.Equal(t, settings.DefaultDigest, s.DigestAlgorithm)
	assert.Equal(t, settings.DefaultTimeout, s.Timeout)
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	s := settings.Settings{
		Server:          "ca.example.com",
		Port:            9999,
		KeyLength:       2048,
		DigestAlgorithm: "sha512",
		Timeout:         time.Second,
	}.WithDefaults()

	assert.Equal(t, 9999, s.Port)
	assert.Equal(t, 2048, s.KeyLength)
	assert.Equal(t, "sha512", s.DigestAlgorithm)
	assert.Equal(t, time.Second, s.Timeout)
}

func TestBaseURL(t *testing.T) {
	s := settings.Settings{Server: "ca.example.com"}.WithDefaults()
	assert.Equal(t, "https://ca.example.com:8140/puppet-ca/v1", s.BaseURL())
}
