package security

// In-memory client registry (replace with DB/config later)
type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"orders.read","orders.write"}
	Enabled bool
}

var Clients = map[string]Client{
	"storefront-web": {ID: "storefront-web", Secret: "storefront-secret", Perms: []string{"orders.read", "orders.write"}, Enabled: true},
	"svc-ops":        {ID: "svc-ops", Secret: "ops-secret", Perms: []string{"orders.read", "orders.write", "orders.admin"}, Enabled: true},
	"svc-analytics":  {ID: "svc-analytics", Secret: "ana-secret", Perms: []string{"orders.read"}, Enabled: true},
}
