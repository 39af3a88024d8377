package main

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"autoeditor/client"
	"autoeditor/config"
	"autoeditor/logging"
	"autoeditor/session"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *logrus.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.LoadFile(path)
	})
	return c.config, c.configErr
}

// log returns the shared logger; call ensureConfig first.
func (c *commandContext) log(cmd *cobra.Command) *logrus.Logger {
	c.loggerOnce.Do(func() {
		c.logger = logging.New(c.config, cmd.ErrOrStderr())
	})
	return c.logger
}

func (c *commandContext) sessionStore() *session.Store {
	return session.NewStore(c.config.SessionFile)
}

// currentSession returns the stored session, or nil when signed out.
func (c *commandContext) currentSession() (*session.Session, error) {
	sess, err := c.sessionStore().Load()
	if errors.Is(err, session.ErrNotSignedIn) {
		return nil, nil
	}
	return sess, err
}

func (c *commandContext) newClient(cmd *cobra.Command, sess *session.Session) (*client.Client, error) {
	cfg := c.config
	opts := []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		client.WithRateLimit(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		client.WithLogger(c.log(cmd)),
	}
	if sess != nil {
		opts = append(opts, client.WithToken(sess.Token))
	}
	return client.New(cfg.APIBase, opts...)
}
