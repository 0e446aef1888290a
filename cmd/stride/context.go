package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
	"stride/internal/config"
)

// skipConfigLoadAnnotation marks commands that load or write the config file
// themselves.
const skipConfigLoadAnnotation = "skipConfigLoad"

type globalFlags struct {
	config string
	api    string
	token  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() string {
	if bind := strings.TrimSpace(c.flags.api); bind != "" {
		return bind
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) apiToken() string {
	if token := strings.TrimSpace(c.flags.token); token != "" {
		return token
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIToken
	}
	return ""
}

// withClient runs fn against the daemon API and turns connection failures
// into an actionable message.
func (c *commandContext) withClient(cmd *cobra.Command, fn func(context.Context, *apiclient.Client) error) error {
	bind := c.apiAddress()
	client, err := apiclient.New(bind, c.apiToken())
	if err != nil {
		return fmt.Errorf("daemon API address %q: %w", bind, err)
	}
	if client == nil {
		return fmt.Errorf("daemon API disabled: set paths.api_bind or pass --api")
	}
	err = fn(cmd.Context(), client)
	if apiclient.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon at %s: %w; start it with `strided`", bind, err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[skipConfigLoadAnnotation] == "true" {
			return true
		}
	}
	return false
}
