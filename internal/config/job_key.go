package config

// JobKeyStruct names the operator batch jobs. The names appear in logs and
// are the subcommands of cmd/reconcile.
type JobKeyStruct struct {
	ReconcileAll string
	CloseOrphans string
}

var JobKey = &JobKeyStruct{
	ReconcileAll: "reconcile_all",
	CloseOrphans: "close_orphans",
}
