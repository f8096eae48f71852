package nfc

import (
	"fmt"
	"log"
	"os"
	"time"
)

const (
	// PluginName identifies the plugin to the host.
	PluginName = "AndroidNfcPlugin"
	// ReaderName identifies the single reader exposed by the plugin.
	ReaderName = "AndroidNfcReader"
)

// Config configures the plugin and its reader.
type Config struct {
	// Host is the non-owning reference to the adapter owner.
	Host *HostRef

	// PlatformSoundEnabled keeps the OS discovery sound. Default true.
	PlatformSoundEnabled bool

	// SkipNDEFCheck stops the OS from probing for NDEF content. Default true.
	SkipNDEFCheck bool

	// CardInsertionPollingInterval becomes the OS presence-check delay.
	// Zero keeps the OS default.
	CardInsertionPollingInterval time.Duration

	// CardRemovalPollingInterval is the period of the polling removal strategy.
	CardRemovalPollingInterval time.Duration

	// ForcePollingRemoval selects polling even when the adapter can report removal.
	ForcePollingRemoval bool

	APDUInterpreterFactory APDUInterpreterFactory
	KeyProvider            KeyProvider

	Logger *log.Logger
	Debug  bool
	Clock  Clock
}

// DefaultConfig returns the configuration used when the host sets nothing else.
func DefaultConfig(host *HostRef) Config {
	return Config{
		Host:                       host,
		PlatformSoundEnabled:       true,
		SkipNDEFCheck:              true,
		CardRemovalPollingInterval: DefaultCardRemovalPollingInterval,
	}
}

// Validate checks option ranges and fills unset ambient fields.
func (c *Config) Validate() error {
	if c.Host == nil {
		return NewConfigurationError("Validate", "host reference is required", nil)
	}
	if c.CardInsertionPollingInterval < 0 {
		return NewConfigurationError("Validate",
			fmt.Sprintf("negative card insertion polling interval %v", c.CardInsertionPollingInterval), nil)
	}
	if c.CardRemovalPollingInterval <= 0 {
		return NewConfigurationError("Validate",
			fmt.Sprintf("card removal polling interval must be positive, got %v", c.CardRemovalPollingInterval), nil)
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[reader] ", log.LstdFlags)
	}
	if c.Clock == nil {
		c.Clock = NewRealClock()
	}
	return nil
}

// baseFlags derives the option flags that do not depend on activated protocols.
func (c *Config) baseFlags() ReaderFlag {
	var f ReaderFlag
	if c.SkipNDEFCheck {
		f |= FlagReaderSkipNDEFCheck
	}
	if !c.PlatformSoundEnabled {
		f |= FlagReaderNoPlatformSounds
	}
	return f
}

func (c *Config) readerOptions() ReaderOptions {
	return ReaderOptions{PresenceCheckDelay: c.CardInsertionPollingInterval}
}

func (c Config) String() string {
	return fmt.Sprintf("Config{sound=%t skipNDEF=%t insertionPoll=%v removalPoll=%v forcePolling=%t interpreter=%t keyProvider=%t}",
		c.PlatformSoundEnabled, c.SkipNDEFCheck, c.CardInsertionPollingInterval,
		c.CardRemovalPollingInterval, c.ForcePollingRemoval,
		c.APDUInterpreterFactory != nil, c.KeyProvider != nil)
}
