package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsRead allows viewing exams and their readiness.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsPublish allows manually moving an exam forward in its lifecycle.
	PermissionExamsPublish Permission = "exams:publish"

	// PermissionLifecycleRun allows running the reconcile and orphan-cleanup batches.
	PermissionLifecycleRun Permission = "lifecycle:run"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionExamsRead,
	PermissionExamsPublish,
	PermissionLifecycleRun,
}
