// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package project

import (
	"fmt"

	"github.com/crowdtiles/crowdtiles/storage"
)

// Coordination store tree layout. Everything lives below a versioned root so
// schema migrations can run side by side.
const pathRoot = "v2"

// ProjectKey returns the coordination path of a project document.
func ProjectKey(projectID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/projects/%s", pathRoot, projectID))
}

// ProjectsPrefix returns the prefix below which all project documents live.
func ProjectsPrefix() storage.Key {
	return storage.Key(pathRoot + "/projects/")
}

// GroupKey returns the coordination path of one group document.
func GroupKey(projectID string, groupID int) storage.Key {
	return storage.Key(fmt.Sprintf("%s/groups/%s/%d", pathRoot, projectID, groupID))
}

// GroupsPrefix returns the prefix below which a project's groups live.
func GroupsPrefix(projectID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/groups/%s/", pathRoot, projectID))
}

// TasksKey returns the coordination path of a group's task payload document.
func TasksKey(projectID string, groupID int) storage.Key {
	return storage.Key(fmt.Sprintf("%s/tasks/%s/%d", pathRoot, projectID, groupID))
}

// TasksPrefix returns the prefix below which a project's task payloads live.
func TasksPrefix(projectID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/tasks/%s/", pathRoot, projectID))
}

// ResultKey returns the coordination path of one contribution event, keyed
// by task and nested by contributor.
func ResultKey(projectID, taskID, userID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/results/%s/%s/%s", pathRoot, projectID, taskID, userID))
}

// ResultsPrefix returns the prefix below which all pending contribution
// events live.
func ResultsPrefix() storage.Key {
	return storage.Key(pathRoot + "/results/")
}

// ResultsProjectPrefix returns the prefix of one project's pending events.
func ResultsProjectPrefix(projectID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/results/%s/", pathRoot, projectID))
}

// DraftKey returns the coordination path of a pending import draft.
func DraftKey(draftID string) storage.Key {
	return storage.Key(fmt.Sprintf("%s/imports/%s", pathRoot, draftID))
}

// DraftsPrefix returns the prefix below which pending imports live.
func DraftsPrefix() storage.Key {
	return storage.Key(pathRoot + "/imports/")
}
