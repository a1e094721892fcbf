// Package sel holds namespace selection rules: system-collection handling
// and user-supplied include/exclude filtering.
package sel

import (
	"slices"
	"strings"
)

// SystemPrefix is the prefix for system collections.
const SystemPrefix = "system."

// IsSystem reports whether the collection name is in the system namespace.
func IsSystem(coll string) bool {
	return strings.HasPrefix(coll, SystemPrefix)
}

// legalClientSystemColls are system collections visible to and writable by
// clients in any database.
//
//nolint:gochecknoglobals
var legalClientSystemColls = []string{
	"system.js",
	"system.users",
}

// legalAdminSystemColls are additionally legal under the admin database.
//
//nolint:gochecknoglobals
var legalAdminSystemColls = []string{
	"system.roles",
	"system.version",
	"system.new_users",
	"system.backup_users",
}

// IsLegalClientSystemNS reports whether a system collection is one of the
// legal client-visible system namespaces and therefore survives clone
// planning.
func IsLegalClientSystemNS(db, coll string) bool {
	if slices.Contains(legalClientSystemColls, coll) {
		return true
	}

	return db == "admin" && slices.Contains(legalAdminSystemColls, coll)
}

// NSFilter returns true if a namespace is allowed.
type NSFilter func(db, coll string) bool

// AllowAllFilter allows every namespace.
func AllowAllFilter(string, string) bool {
	return true
}

// MakeFilter builds an NSFilter from include and exclude namespace lists.
// Entries are "db.coll" or "db.*". Exclusion wins over inclusion; a
// non-empty include list denies everything not listed.
func MakeFilter(include, exclude []string) NSFilter {
	if len(include) == 0 && len(exclude) == 0 {
		return AllowAllFilter
	}

	includeFilter := makeFilterMap(include)
	excludeFilter := makeFilterMap(exclude)

	return func(db, coll string) bool {
		if len(excludeFilter) > 0 && excludeFilter.Has(db, coll) {
			return false
		}

		if len(includeFilter) > 0 {
			return includeFilter.Has(db, coll)
		}

		return true
	}
}

type filterMap map[string][]string

func (f filterMap) Has(db, coll string) bool {
	list, ok := f[db]
	if !ok {
		return false // the db is not listed
	}

	if len(list) == 0 {
		return true // all collections of the database
	}

	return slices.Contains(list, coll)
}

func makeFilterMap(filter []string) filterMap {
	// keys are database names; values are collections belonging to the db.
	// an empty/nil value means the whole db (all its collections).
	fm := make(filterMap)

	for _, ns := range filter {
		db, coll, _ := strings.Cut(ns, ".")

		l, ok := fm[db]
		if ok && len(l) == 0 {
			continue // whole db already listed
		}

		if coll == "*" {
			fm[db] = nil

			continue
		}

		fm[db] = append(fm[db], coll)
	}

	return fm
}

// NSSet is a set of fully-qualified "db.coll" namespaces.
type NSSet map[string]struct{}

// MakeNSSet builds an NSSet from a list of fully-qualified namespaces.
func MakeNSSet(namespaces []string) NSSet {
	s := make(NSSet, len(namespaces))
	for _, ns := range namespaces {
		s[ns] = struct{}{}
	}

	return s
}

// Contains reports whether the fully-qualified namespace is in the set.
func (s NSSet) Contains(ns string) bool {
	_, ok := s[ns]

	return ok
}
