// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "CamWatch")
	viper.SetDefault("main.timeas24h", true)
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "camwatch.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("engine.resultttl", 60*time.Second)
	viper.SetDefault("engine.sessionttl", 10*time.Minute)
	viper.SetDefault("engine.failurecooldown", 30*time.Second)
	viper.SetDefault("engine.pendingtimeout", 5*time.Second)
	viper.SetDefault("engine.tracksilence", 30*time.Second)
	viper.SetDefault("engine.sweepinterval", 10*time.Second)
	viper.SetDefault("engine.historydepth", 16)
	viper.SetDefault("engine.apibudget", 5)

	viper.SetDefault("cameras", []map[string]any{})

	viper.SetDefault("attendance.enabled", false)
	viper.SetDefault("attendance.debug", false)
	viper.SetDefault("attendance.duplicatewindow", 30*time.Second)
	viper.SetDefault("attendance.policy.shiftstart", "08:00")
	viper.SetDefault("attendance.policy.shiftend", "17:00")
	viper.SetDefault("attendance.policy.lategrace", 5*time.Minute)
	viper.SetDefault("attendance.policy.earlyexitgrace", 5*time.Minute)
	viper.SetDefault("attendance.provider.type", "static")
	viper.SetDefault("attendance.provider.timeout", 10*time.Second)
	viper.SetDefault("attendance.provider.cachettl", 15*time.Minute)

	viper.SetDefault("services.facematch.enabled", false)
	viper.SetDefault("services.facematch.debug", false)
	viper.SetDefault("services.facematch.timeout", 2*time.Second)
	viper.SetDefault("services.facematch.minconfidence", 0.75)
	viper.SetDefault("services.facematch.requestspersec", 0)
	viper.SetDefault("services.facematch.maxretries", 2)

	viper.SetDefault("services.plateocr.enabled", false)
	viper.SetDefault("services.plateocr.debug", false)
	viper.SetDefault("services.plateocr.timeout", 2*time.Second)
	viper.SetDefault("services.plateocr.minconfidence", 0.7)
	viper.SetDefault("services.plateocr.requestspersec", 0)
	viper.SetDefault("services.plateocr.maxretries", 2)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "camwatch.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "camwatch")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "camwatch")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("output.mqtt.enabled", false)
	viper.SetDefault("output.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("output.mqtt.topic", "camwatch")
	viper.SetDefault("output.mqtt.username", "")
	viper.SetDefault("output.mqtt.password", "")
	viper.SetDefault("output.mqtt.retain", false)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
}
