package api

import (
	"github.com/gin-gonic/gin"
)

var versionPrefix = "/api/v1"

// GetAPIPrefix return the prefix of the api route path
func GetAPIPrefix() []string {
	return []string{versionPrefix}
}

// The Interface API should define the http route
type Interface interface {
	RegisterRoutes(group *gin.RouterGroup)
}

var registeredAPI []Interface

// RegisterAPI register API handler
func RegisterAPI(ws Interface) {
	registeredAPI = append(registeredAPI, ws)
}

// GetRegisteredAPI return all API handlers
func GetRegisteredAPI() []Interface {
	return registeredAPI
}

// InitAPIBean registers the handlers of the order acceptance role and returns
// them for dependency injection.
func InitAPIBean() []interface{} {
	RegisterAPI(NewOrders())
	return collectBeans()
}

// InitNotifierAPIBean registers the handlers of the notifier role, which
// exposes the realtime channel instead of the order endpoints.
func InitNotifierAPIBean() []interface{} {
	RegisterAPI(NewWebsocket())
	return collectBeans()
}

func collectBeans() []interface{} {
	var beans []interface{}
	for i := range registeredAPI {
		beans = append(beans, registeredAPI[i])
	}
	return beans
}
