// defaults.go default values for the viper configuration
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default configuration values.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "ClassTrack-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "classtrack.log")

	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", 8000)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "classtrack.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "classtrack")
	viper.SetDefault("output.mysql.password", "classtrack")
	viper.SetDefault("output.mysql.database", "classtrack")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("recognition.mode", ModeDistance)
	viper.SetDefault("recognition.model", "")
	viper.SetDefault("recognition.distancethreshold", 0.45)
	viper.SetDefault("recognition.similaritythreshold", 0.55)
	viper.SetDefault("recognition.cooldown", 20*time.Second)
	viper.SetDefault("recognition.cachettl", 60*time.Second)
	viper.SetDefault("recognition.framestride", 8)
	viper.SetDefault("recognition.detectorurl", "http://localhost:9000/detect")
	viper.SetDefault("recognition.detectortimeout", 30*time.Second)
	viper.SetDefault("recognition.eventlog.enabled", false)
	viper.SetDefault("recognition.eventlog.path", "recognition-events.log")

	viper.SetDefault("mail.enabled", false)
	viper.SetDefault("mail.dryrun", true)
	viper.SetDefault("mail.smtphost", "smtp.gmail.com")
	viper.SetDefault("mail.smtpport", 587)
	viper.SetDefault("mail.username", "")
	viper.SetDefault("mail.password", "")
	viper.SetDefault("mail.from", "Attendance Bot <no-reply@example.com>")
	viper.SetDefault("mail.usetls", true)
}
