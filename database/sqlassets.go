package sqlassets

import _ "embed"

//go:embed schema/control/tenants.sql
var TenantsSQL string

//go:embed schema/tenant_space/conversations.sql
var ConversationsSQL string
