// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package cli implements the togetherctl commands: purging test data,
// printing LAN addresses, smoke testing a deployment, signing service keys,
// sending blessings and watching the public wall.
package cli
