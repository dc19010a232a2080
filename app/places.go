// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

// Region pairs the short name stored in visited_places with the full name
// the map draws.
type Region struct {
	Short string
	Full  string
}

// Regions lists every province-level region of the map
var Regions = []Region{
	{"北京", "北京市"}, {"天津", "天津市"}, {"上海", "上海市"}, {"重庆", "重庆市"},
	{"河北", "河北省"}, {"山西", "山西省"}, {"辽宁", "辽宁省"}, {"吉林", "吉林省"},
	{"黑龙江", "黑龙江省"}, {"江苏", "江苏省"}, {"浙江", "浙江省"}, {"安徽", "安徽省"},
	{"福建", "福建省"}, {"江西", "江西省"}, {"山东", "山东省"}, {"河南", "河南省"},
	{"湖北", "湖北省"}, {"湖南", "湖南省"}, {"广东", "广东省"}, {"海南", "海南省"},
	{"四川", "四川省"}, {"贵州", "贵州省"}, {"云南", "云南省"}, {"陕西", "陕西省"},
	{"甘肃", "甘肃省"}, {"青海", "青海省"}, {"台湾", "台湾省"},
	{"内蒙古", "内蒙古自治区"}, {"广西", "广西壮族自治区"}, {"西藏", "西藏自治区"},
	{"宁夏", "宁夏回族自治区"}, {"新疆", "新疆维吾尔自治区"},
	{"香港", "香港特别行政区"}, {"澳门", "澳门特别行政区"},
}

// FullName maps a stored short name to the map's name. Unknown names are
// returned unchanged.
func FullName(short string) string {
	for _, r := range Regions {
		if r.Short == short {
			return r.Full
		}
	}
	return short
}

// ShortName maps a map name back to the stored short name. Unknown names
// are returned unchanged.
func ShortName(full string) string {
	for _, r := range Regions {
		if r.Full == full {
			return r.Short
		}
	}
	return full
}

// VisitedMap tracks which regions the couple has been to. Only names are
// cached, so a delete from the feed reloads the whole set.
type VisitedMap struct {
	table *gateway.Table[models.VisitedPlace]
	names *reconcile.NameSet
	sub   *gateway.Subscription

	toggling optimistic.Guard
}

// OpenVisitedMap loads the visited names and follows them until Close
func OpenVisitedMap(ctx context.Context, actx *Context) (*VisitedMap, error) {
	table := gateway.NewTable[models.VisitedPlace](actx.Service, models.TableVisitedPlaces)
	names := reconcile.NewNameSet(func(ctx context.Context) ([]string, error) {
		rows, err := table.FetchAll(ctx, gateway.Query{Columns: []string{"id", "name"}})
		if err != nil {
			return nil, err
		}
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Name
		}
		return out, nil
	})
	sub, err := reconcile.FollowNames(ctx, table, names, func(p models.VisitedPlace) string { return p.Name })
	if err != nil {
		return nil, fmt.Errorf("open visited map: %w", err)
	}
	return &VisitedMap{table: table, names: names, sub: sub}, nil
}

// Visited reports whether a region, by short or full name, is marked
func (m *VisitedMap) Visited(name string) bool {
	return m.names.Has(ShortName(strings.TrimSpace(name)))
}

// Toggle marks an unvisited region or unmarks a visited one. The local set
// does not change here; the feed reports the outcome.
func (m *VisitedMap) Toggle(ctx context.Context, name string) error {
	short := ShortName(strings.TrimSpace(name))
	if short == "" {
		return models.ErrEmptyText
	}
	return m.toggling.Do(func() error {
		return optimistic.Toggle(ctx, m.names.Has(short),
			func(ctx context.Context) error {
				_, err := m.table.Insert(ctx, models.VisitedPlace{Name: short})
				return err
			},
			func(ctx context.Context) error {
				return m.table.DeleteWhere(ctx, gateway.Eq("name", short))
			},
		)
	})
}

// Names returns the visited short names, sorted
func (m *VisitedMap) Names() []string { return m.names.Names() }

// FullNames returns the visited regions as the map names them
func (m *VisitedMap) FullNames() []string {
	names := m.names.Names()
	for i, n := range names {
		names[i] = FullName(n)
	}
	return names
}

func (m *VisitedMap) Count() int { return m.names.Len() }

func (m *VisitedMap) OnChange(fn func()) { m.names.OnChange(fn) }

func (m *VisitedMap) Close() { m.sub.Unsubscribe() }
