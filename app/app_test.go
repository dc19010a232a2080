// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/gateway/gatewaytest"
	"github.com/danielhkuo/daystogether/models"
)

var testNow = time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)

func newTestContext(t *testing.T) (*gatewaytest.Fake, *app.Context) {
	t.Helper()
	fake := gatewaytest.New(t)
	actx := app.NewContext(fake, cliparse.ClientConfig{
		ServiceURL:    gatewaytest.BaseURL,
		ServiceKey:    "test-key",
		SiteTitle:     "Days Together",
		AdminPassword: cliparse.DefaultAdminPassword,
	})
	actx.Now = func() time.Time { return testNow }
	return fake, actx
}

// newLoggedIn returns a session logged in as name1 with default settings
func newLoggedIn(t *testing.T, actx *app.Context) *app.Session {
	t.Helper()
	s := app.NewSession(actx)
	_, err := s.LoadSettings(t.Context())
	require.NoError(t, err)
	_, err = s.Login(app.DefaultPassword1)
	require.NoError(t, err)
	return s
}

func file(name, body string) app.File {
	return app.File{Name: name, Body: strings.NewReader(body)}
}

func seedSong(t *testing.T, fake *gatewaytest.Fake, title, createdAt string) string {
	t.Helper()
	u := fake.PutObject(models.BucketMusic, title+".mp3", []byte("audio"))
	return fake.Seed(models.TableSongs, models.Song{Title: title, Artist: "A", URL: u, CreatedAt: createdAt})
}
