// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import "github.com/danielhkuo/daystogether/models"

// ColumnKind controls how a column is encoded and defaulted
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindTimestamp
	KindJSON
)

type Column struct {
	Name string
	Kind ColumnKind
	// Nullable columns come back as JSON null when unset
	Nullable bool
}

// Table describes one collection exposed by the store
type Table struct {
	Name    string
	Columns []Column
	// Default ordering when the query does not name one
	OrderBy   string
	OrderDesc bool
	// Virtual tables are computed and cannot be written
	Virtual bool
}

// Column looks up a column definition by name
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

var id = Column{Name: "id"}

// Tables is the registry of every collection the service knows about
var Tables = map[string]Table{
	models.TableSettings: {
		Name: models.TableSettings,
		Columns: []Column{
			id,
			{Name: "name1"}, {Name: "avatar1"}, {Name: "password1_hash"},
			{Name: "name2"}, {Name: "avatar2"}, {Name: "password2_hash"},
			{Name: "start_date"},
			{Name: "admin_password", Nullable: true},
		},
		OrderBy: "id",
	},
	models.TableMessages: {
		Name: models.TableMessages,
		Columns: []Column{
			id,
			{Name: "text"},
			{Name: "date", Kind: KindTimestamp},
			{Name: "sender", Nullable: true},
		},
		OrderBy: "date",
	},
	models.TableBlessings: {
		Name:    models.TableBlessings,
		Columns: []Column{id, {Name: "created_at", Kind: KindTimestamp}},
		OrderBy: "created_at",
	},
	models.TableBlessingStats: {
		Name:    models.TableBlessingStats,
		Columns: []Column{id, {Name: "count"}},
		Virtual: true,
	},
	models.TablePublicMessages: {
		Name: models.TablePublicMessages,
		Columns: []Column{
			id,
			{Name: "text"},
			{Name: "created_at", Kind: KindTimestamp},
		},
		OrderBy: "created_at",
	},
	models.TablePhotos: {
		Name: models.TablePhotos,
		Columns: []Column{
			id,
			{Name: "image_urls", Kind: KindJSON},
			{Name: "description", Nullable: true},
			{Name: "date", Kind: KindTimestamp},
			{Name: "uploader", Nullable: true},
		},
		OrderBy:   "date",
		OrderDesc: true,
	},
	models.TableSongs: {
		Name: models.TableSongs,
		Columns: []Column{
			id,
			{Name: "title"},
			{Name: "artist"},
			{Name: "url"},
			{Name: "uploader", Nullable: true},
			{Name: "created_at", Kind: KindTimestamp},
		},
		OrderBy:   "created_at",
		OrderDesc: true,
	},
	models.TableVisitedPlaces: {
		Name:    models.TableVisitedPlaces,
		Columns: []Column{id, {Name: "name"}},
		OrderBy: "name",
	},
	models.TableAchievements: {
		Name: models.TableAchievements,
		Columns: []Column{
			id,
			{Name: "title"},
			{Name: "date"},
			{Name: "icon"},
		},
		OrderBy:   "date",
		OrderDesc: true,
	},
}

// TableNames lists the writable collections, in purge order
func TableNames() []string {
	return []string{
		models.TableMessages,
		models.TableBlessings,
		models.TablePublicMessages,
		models.TablePhotos,
		models.TableSongs,
		models.TableVisitedPlaces,
		models.TableAchievements,
		models.TableSettings,
	}
}
