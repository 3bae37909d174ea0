package store

import "github.com/jomardyan/FlexiFocus/internal/model"

// migrations[v] upgrades a document from schema v to v+1.
var migrations = map[int]func(doc map[string]any){
	1: migrateV1,
}

// migrateDocument upgrades doc in place to model.SchemaVersion. Documents
// without a version are treated as version 1.
func migrateDocument(doc map[string]any) {
	version := 1
	if raw, ok := doc["schemaVersion"].(float64); ok && raw >= 1 {
		version = int(raw)
	}
	for version < model.SchemaVersion {
		if step, ok := migrations[version]; ok {
			step(doc)
		}
		version++
	}
	doc["schemaVersion"] = float64(model.SchemaVersion)
}

// migrateV1 renames the v1 "stats" block and the timer's "taskId" field.
func migrateV1(doc map[string]any) {
	if stats, ok := doc["stats"]; ok {
		if _, exists := doc["statistics"]; !exists {
			doc["statistics"] = stats
		}
		delete(doc, "stats")
	}
	if timer, ok := doc["timer"].(map[string]any); ok {
		if taskID, ok := timer["taskId"]; ok {
			if _, exists := timer["activeTaskId"]; !exists {
				timer["activeTaskId"] = taskID
			}
			delete(timer, "taskId")
		}
	}
}
