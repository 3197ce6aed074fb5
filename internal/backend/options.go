package backend

import (
	"context"
	"net"
	"time"
)

// Default values, matching what PvPGN servers expect from chat clients.
const (
	DefaultLoginTimeout      = 20 * time.Second
	DefaultKeepAliveInterval = 60 * time.Second
	DefaultKeepAliveCommand  = "/nop"
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultDialTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultChannel           = "Tah'kaka chat"
	DefaultMaxLinesPerRead   = 1000
	DefaultReadBufferSize    = 4096
)

// Dialer opens the outbound stream. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options tunes a Conn. Zero fields are replaced by their defaults;
// a negative KeepAliveInterval or IdleTimeout disables the feature.
type Options struct {
	LoginTimeout      time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCommand  string
	IdleTimeout       time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	// Channel is joined right after the password is sent.
	Channel string

	// MaxLinesPerRead bounds the number of complete lines a single read may
	// carry. Exceeding it is treated as a fatal stream fault.
	MaxLinesPerRead int
	ReadBufferSize  int

	Dialer Dialer
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		LoginTimeout:      DefaultLoginTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		KeepAliveCommand:  DefaultKeepAliveCommand,
		IdleTimeout:       DefaultIdleTimeout,
		DialTimeout:       DefaultDialTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		Channel:           DefaultChannel,
		MaxLinesPerRead:   DefaultMaxLinesPerRead,
		ReadBufferSize:    DefaultReadBufferSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = d.LoginTimeout
	}
	if o.KeepAliveInterval == 0 {
		o.KeepAliveInterval = d.KeepAliveInterval
	}
	if o.KeepAliveCommand == "" {
		o.KeepAliveCommand = d.KeepAliveCommand
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.Channel == "" {
		o.Channel = d.Channel
	}
	if o.MaxLinesPerRead <= 0 {
		o.MaxLinesPerRead = d.MaxLinesPerRead
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	return o
}
