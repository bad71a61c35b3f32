package progress

// State holds the provisioning milestones detected so far for one session.
// Flags are monotonic: once a milestone is observed it stays set until the
// classifier is reset for a new session.
type State struct {
	MachineFound         bool
	IPAllocated          bool
	ProvisioningComplete bool
	EnvironmentSetup     bool
	JobDeployed          bool
	DiskMounted          bool
	SDKInitialized       bool
	Completed            bool
}
