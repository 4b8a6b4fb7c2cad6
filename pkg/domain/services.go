package domain

// Proxied service identifiers.
const (
	ServicePayments  = "cloud-service-1"
	ServiceAuth      = "cloud-service-2"
	ServiceStorage   = "cloud-service-3"
	ServiceSearch    = "cloud-service-4"
	ServiceMessaging = "cloud-service-5"
	ServiceCache     = "cloud-service-6"
)

var serviceNames = map[string]string{
	ServicePayments:  "payments",
	ServiceAuth:      "auth",
	ServiceStorage:   "storage",
	ServiceSearch:    "search",
	ServiceMessaging: "messaging",
	ServiceCache:     "cache",
}

// ServiceIDs returns the fixed service set in id order.
func ServiceIDs() []string {
	return []string{ServicePayments, ServiceAuth, ServiceStorage, ServiceSearch, ServiceMessaging, ServiceCache}
}

// ServiceName returns the short name of a service, or "" if the id is unknown.
func ServiceName(id string) string {
	return serviceNames[id]
}

// ValidateServiceID returns UnknownServiceError if id is not in the fixed set.
func ValidateServiceID(id string) error {
	if _, ok := serviceNames[id]; !ok {
		return &UnknownServiceError{Service: id}
	}
	return nil
}
