package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mescon/repeatd/internal/config"
	"github.com/mescon/repeatd/internal/services"
)

func TestJobConfigs(t *testing.T) {
	defs := []config.JobDefinition{
		{Name: "home", Kind: "http", Target: "https://example.com", Interval: config.Duration(30 * time.Second), Delay: config.Duration(time.Second)},
		{Kind: "heartbeat"},
	}

	got := jobConfigs(defs)

	assert.Equal(t, []services.JobConfig{
		{Name: "home", Kind: "http", Target: "https://example.com", Interval: 30 * time.Second, Delay: time.Second},
		{Kind: "heartbeat"},
	}, got)
	assert.Empty(t, jobConfigs(nil))
}
