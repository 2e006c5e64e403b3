package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags are the serve-only flags. Listener and audit overrides are bound
// straight into viper and have no field here.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// RemoteFlags select a running server instead of the local script.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type RunFlags struct {
	RemoteFlags
	JSON bool
}

type ClearFlags struct {
	RemoteFlags
}

type ReportsFlags struct {
	RemoteFlags
}
