// Package config provides configuration management for MemBroker.
//
// It covers layered loading (defaults, then a YAML file, then environment
// variables), validation of the resulting configuration, and a polling
// file watcher for picking up configuration changes at runtime.
package config
