package clone

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/sel"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// planEntry is the provisioning plan for one collection. Entries keep the
// source listing order, which drives creation order.
type planEntry struct {
	name string
	info remote.CollectionInfo

	// indexSpecs is the full index specification list fetched once from the
	// source and reused for id-index resolution and secondary index builds.
	indexSpecs []bson.Raw

	// idIndexSpec is the resolved id index spec. Nil means the default id
	// index is created.
	idIndexSpec bson.Raw

	sharded bool
}

func (e *planEntry) namespace(db string) store.Namespace {
	return store.Namespace{Database: db, Collection: e.name}
}

// filterCollections applies the planning rules to the source listing:
// options must parse, the name must be present, and system collections are
// skipped unless they are legal client-visible system namespaces. The
// surviving descriptors keep their original order.
func filterCollections(db string, infos []remote.CollectionInfo, lg *log.Logger) ([]remote.CollectionInfo, error) {
	final := make([]remote.CollectionInfo, 0, len(infos))

	for _, info := range infos {
		if len(info.Options) > 0 {
			var opts bson.D

			err := bson.Unmarshal(info.Options, &opts)
			if err != nil {
				return nil, errors.Wrapf(err, "parse collection options for %q", info.Name)
			}
		}

		if info.Name == "" {
			return nil, errors.New("collection descriptor has no name")
		}

		if sel.IsSystem(info.Name) && !sel.IsLegalClientSystemNS(db, info.Name) {
			lg.With(log.NS(db, info.Name)).Info("Not cloning system collection")

			continue
		}

		final = append(final, info)
	}

	return final, nil
}

// buildPlan turns filtered descriptors into plan entries, marking the ones
// whose fully-qualified name is declared sharded.
func buildPlan(db string, infos []remote.CollectionInfo, sharded sel.NSSet) []*planEntry {
	entries := make([]*planEntry, len(infos))

	for i, info := range infos {
		entries[i] = &planEntry{
			name:    info.Name,
			info:    info,
			sharded: sharded.Contains(db + "." + info.Name),
		}
	}

	return entries
}

// resolveIDIndex resolves the entry's id index spec: an explicit idIndex
// field on the descriptor wins; otherwise the "_id_" entry of the fetched
// index list; otherwise nil (default id index).
func resolveIDIndex(entry *planEntry) error {
	if len(entry.info.IDIndex) > 0 {
		entry.idIndexSpec = entry.info.IDIndex

		return nil
	}

	spec, err := remote.IDIndexSpec(entry.indexSpecs)
	if err != nil {
		return errors.Wrapf(err, "resolve id index for %q", entry.name)
	}

	entry.idIndexSpec = spec

	return nil
}
