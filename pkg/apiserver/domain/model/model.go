package model

import (
	"fmt"
	"time"
)

var registeredModels = map[string]interface{}{}

// RegisterModel registers models for auto-migration at datastore startup.
func RegisterModel(models ...interface{}) {
	for _, m := range models {
		name := fmt.Sprintf("%T", m)
		if _, exist := registeredModels[name]; exist {
			panic(fmt.Errorf("model %s registered twice", name))
		}
		registeredModels[name] = m
	}
}

// GetRegisterModels will return the register models
func GetRegisterModels() []interface{} {
	out := make([]interface{}, 0, len(registeredModels))
	for _, m := range registeredModels {
		out = append(out, m)
	}
	return out
}

// BaseModel common timestamps embedded in every aggregate.
type BaseModel struct {
	CreateTime time.Time `json:"createTime" gorm:"autoCreateTime"`
	UpdateTime time.Time `json:"updateTime" gorm:"autoUpdateTime"`
}
