package memstore

import "github.com/hashicorp/go-memdb"

const (
	tableTasks      = "tasks"
	tableTaskAssets = "task_assets"
	tableRecords    = "sub_asset_records"
	tableAudit      = "audit_events"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTasks:      tasksTableSchema(),
			tableTaskAssets: taskAssetsTableSchema(),
			tableRecords:    recordsTableSchema(),
			tableAudit:      auditTableSchema(),
		},
	}
}

func tasksTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableTasks,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:    "id",
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
		},
	}
}

func taskAssetsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableTaskAssets,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:   "id",
				Unique: true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "TaskID"},
						&memdb.StringFieldIndex{Field: "TypeID"},
						&memdb.StringFieldIndex{Field: "AssetID"},
					},
				},
			},
			"task": {
				Name:    "task",
				Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
			},
		},
	}
}

func recordsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableRecords,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:   "id",
				Unique: true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "TaskID"},
						&memdb.StringFieldIndex{Field: "TypeID"},
						&memdb.StringFieldIndex{Field: "AssetID"},
						&memdb.StringFieldIndex{Field: "SubTypeID"},
						&memdb.StringFieldIndex{Field: "SubAssetID"},
					},
				},
			},
			"task": {
				Name:    "task",
				Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
			},
		},
	}
}

func auditTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableAudit,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:    "id",
				Unique:  true,
				Indexer: &memdb.UintFieldIndex{Field: "ID"},
			},
			"task": {
				Name:    "task",
				Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
			},
		},
	}
}
