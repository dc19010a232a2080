// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides service keys, the participant password gate and the
identity cookie.

# Service Keys

Every request to the service carries an access key: an HS256 JWT with a
role claim, signed with the server's JWT secret:

	key, err := auth.IssueServiceKey(secret, auth.RoleAnon, 0)
	role, err := auth.ParseServiceKey(secret, key)

RoleAnon is what the app ships with. RoleService is needed for operations that
touch a whole collection at once, such as the purge tool.

# Participant Gate

The two participants unlock the app with plaintext passwords kept in the
settings row. It is a shared-secret gate, not authentication:

	p, err := auth.MatchParticipant(settings, "123") // models.Name1
	err := auth.CheckAdminPassword(settings, cfg.AdminPassword, input)

Comparisons are constant time.

# Identity Cookie

The chosen participant is remembered for 30 days in the love_user cookie:

	c := auth.ParticipantCookie(models.Name1, time.Now())
	p, ok := auth.ParticipantFromCookie(c, time.Now())

# ID Generation

Random hex IDs:

	id, err := auth.GenerateID(16)  // 32 hex characters
*/
package auth
