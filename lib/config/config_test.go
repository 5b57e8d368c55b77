// config_test.go tests config files
package config

import (
	"errors"
	"os"
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. kinrelay/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	//extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "3001" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// and the ledger
		if conf.Ledger.Env != "test" || conf.Ledger.AppIndex != 1 {
			t.Errorf("ledger config does not match the expected %v", conf.Ledger)
		}
		if err = conf.Validate(); err != nil {
			t.Errorf("config file should carry the required secrets:%e", err)
		}
	}
}

// TestConfigEnv checks OS ENV variables override file values
func TestConfigEnv(t *testing.T) {
	os.Setenv("RELAY_PORT", "3099")
	os.Setenv("RELAY_APPINDEX", "7")
	defer os.Unsetenv("RELAY_PORT")
	defer os.Unsetenv("RELAY_APPINDEX")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	}
	if conf.Port != "3099" {
		t.Errorf("OS ENV port override failed, got %s", conf.Port)
	}
	if conf.Ledger.AppIndex != 7 {
		t.Errorf("OS ENV appIndex override failed, got %d", conf.Ledger.AppIndex)
	}
}

// TestValidate checks the service refuses to run without its secrets
func TestValidate(t *testing.T) {
	var conf ServiceConfig
	if err := conf.Validate(); !errors.Is(err, ErrNoSecretKey) {
		t.Errorf("expected ErrNoSecretKey, got %v", err)
	}
	conf.SecretKey = "S5mlezPUBJrbJyZhQYXsJ7BFcV4E6VTz4rA2z2BAU1k"
	if err := conf.Validate(); !errors.Is(err, ErrNoWebhookSecret) {
		t.Errorf("expected ErrNoWebhookSecret, got %v", err)
	}
	conf.WebhookSecret = "hush"
	if err := conf.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}
