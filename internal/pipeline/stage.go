package pipeline

import "fmt"

// Stage is the pipeline's position in its fixed, strictly sequential run.
// No stage may be skipped or reordered; advance rejects any transition
// other than to the immediate successor.
type Stage int

const (
	StageInit Stage = iota
	StageSchemaCreated
	StageCategoriesLoaded
	StageClassesBuilt
	StageClassClosuresComputed
	StageClassesPersisted
	StageObjectsBuilt
	StageObjectClosuresComputed
	StageObjectsPersisted
	StageClassCountersFixed
	StageDone
)

var stageNames = map[Stage]string{
	StageInit:                   "INIT",
	StageSchemaCreated:          "SCHEMA_CREATED",
	StageCategoriesLoaded:       "CATEGORIES_LOADED",
	StageClassesBuilt:           "CLASSES_BUILT",
	StageClassClosuresComputed:  "CLASS_CLOSURES_COMPUTED",
	StageClassesPersisted:       "CLASSES_PERSISTED",
	StageObjectsBuilt:           "OBJECTS_BUILT",
	StageObjectClosuresComputed: "OBJECT_CLOSURES_COMPUTED",
	StageObjectsPersisted:       "OBJECTS_PERSISTED",
	StageClassCountersFixed:     "CLASS_COUNTERS_FIXED",
	StageDone:                   "DONE",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}
