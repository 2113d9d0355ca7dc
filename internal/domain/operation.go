package domain

import "fmt"

// OperationKind is the maintenance operation a task performs.
type OperationKind string

const (
	OperationDownloadPackage OperationKind = "DownloadPackage"
	OperationInstall         OperationKind = "Install"
	OperationReboot          OperationKind = "Reboot"
	OperationSelfTest        OperationKind = "SelfTest"
	OperationRetrieveLog     OperationKind = "RetrieveLog"
)

// OperationKinds lists every supported operation.
var OperationKinds = []OperationKind{
	OperationDownloadPackage,
	OperationInstall,
	OperationReboot,
	OperationSelfTest,
	OperationRetrieveLog,
}

func ParseOperationKind(s string) (OperationKind, error) {
	for _, k := range OperationKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// IsComposite reports whether the owner asset's outcome is joined from
// independently reporting sub-assets.
func (k OperationKind) IsComposite() bool {
	switch k {
	case OperationReboot, OperationSelfTest, OperationRetrieveLog:
		return true
	}
	return false
}

// TracksSubOperations is true for the operations whose task status also
// waits on per-sub-asset results.
func (k OperationKind) TracksSubOperations() bool {
	return k == OperationReboot || k == OperationSelfTest
}

// Topic returns the topic segment used for the operation's commands.
func (k OperationKind) Topic() string {
	switch k {
	case OperationDownloadPackage:
		return "download-package"
	case OperationInstall:
		return "install"
	case OperationReboot:
		return "reboot"
	case OperationSelfTest:
		return "self-test"
	case OperationRetrieveLog:
		return "retrieve-log"
	}
	return "unknown"
}
