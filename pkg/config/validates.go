package config

import "strings"

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Client.Validate(); err != nil {
		return err
	}
	if err := c.Presence.Validate(); err != nil {
		return err
	}
	if err := c.Arbiter.Validate(); err != nil {
		return err
	}
	if err := c.Persistence.Validate(); err != nil {
		return err
	}
	if err := c.Security.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if c.RelayURL == "" && !c.Discover {
		return ErrMissingRelay
	}
	return nil
}

func (c *PresenceConfig) Validate() error {
	if c.HeartbeatIntervalMs <= 0 || c.HeartbeatIntervalMs >= c.TimeoutMs {
		return ErrInvalidHeartbeat
	}
	return nil
}

func (c *ArbiterConfig) Validate() error {
	if c.MaxEditors <= 0 {
		return ErrInvalidMaxEditors
	}
	if !knownModes.Contains(c.Mode) {
		return ErrUnknownMode
	}
	return nil
}

func (c *PersistenceConfig) Validate() error {
	if !knownDrivers.Contains(c.Driver) {
		return ErrUnknownDriver
	}
	if c.Driver == "postgres" && c.DSN == "" {
		return ErrMissingDSN
	}
	return nil
}

func (c *SecurityConfig) Validate() error {

	if c.Enabled {
		if c.Cert == "" {
			return ErrMissingCert
		}

		if c.Key == "" {
			return ErrMissingKey
		}
	}

	return nil
}

func (c *LoggingConfig) Validate() error {
	if !knownLevels.Contains(strings.ToLower(c.Level)) {
		return ErrInvalidLevel
	}
	return nil
}
