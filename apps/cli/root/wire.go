package root

import (
	"github.com/relaycore/courier/apps/cli/cmd/queuecmd"
	"github.com/relaycore/courier/apps/cli/cmd/tenantcmd"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(queuecmd.Command())
}
