package api

func liveness(api *API) bool {
	if api.Registry == nil {
		return false
	}
	for _, server := range api.Servers {
		if !server.IsRunning() {
			return false
		}
	}
	return true
}
