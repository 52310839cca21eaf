package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mjl-/sconf"

	"github.com/pes10k/gimap/gmail"
)

// Config is the gimap configuration file, parsed with sconf. Run "gimap
// config describe" for a documented example.
type Config struct {
	Address     string `sconf:"optional" sconf-doc:"IMAP server, as host:port. Default: imap.gmail.com:993."`
	Email       string `sconf-doc:"Account email address, used as the authentication identity."`
	Password    string `sconf:"optional" sconf-doc:"Password for LOGIN authentication. Set either Password or AccessToken."`
	AccessToken string `sconf:"optional" sconf-doc:"OAuth2 access token for XOAUTH2 authentication. Takes precedence over Password."`
	Trash       string `sconf:"optional" sconf-doc:"Trash mailbox, where deleted messages are moved before being expunged. Default: [Gmail]/Trash."`
	LogLevel    string `sconf:"optional" sconf-doc:"Log level: error, warn, info, debug, trace, traceauth, tracedata. The trace levels log the IMAP protocol exchange. Default: info."`
}

func (cfg Config) check() error {
	if cfg.Email == "" {
		return errors.New("missing Email")
	}
	if cfg.Password == "" && cfg.AccessToken == "" {
		return errors.New("set either Password or AccessToken")
	}
	return nil
}

func mustLoadConfig(path string) Config {
	var cfg Config
	if err := sconf.ParseFile(path, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parsing config file %s: %s\n", path, err)
		os.Exit(2)
	}
	if err := cfg.check(); err != nil {
		fmt.Fprintf(os.Stderr, "config file %s: %s\n", path, err)
		os.Exit(2)
	}
	return cfg
}

func describeConfig() string {
	example := Config{
		Address:  "imap.gmail.com:993",
		Email:    "you@gmail.com",
		Password: "app-specific-password",
		Trash:    gmail.DefaultTrashMailbox,
		LogLevel: "info",
	}
	var b strings.Builder
	if err := sconf.Describe(&b, example); err != nil {
		panic(err)
	}
	return b.String()
}
