package mqttbridge

import "fmt"

// Topic tree per spec.md §6, all rooted at "opensleep/".
const (
	topicRoot         = "opensleep"
	TopicAvailability = topicRoot + "/availability"
	topicDeviceFmt    = topicRoot + "/device/%s"
	topicPresenceFmt  = topicRoot + "/state/presence/%s"
	topicSensorFmt    = topicRoot + "/state/sensor/%s"
	topicFrozenFmt    = topicRoot + "/state/frozen/%s"
	topicConfigFmt    = topicRoot + "/state/config/%s"
	topicActionFmt    = topicRoot + "/actions/%s"
	topicResultFmt    = topicRoot + "/result/%s"
)

func deviceTopic(field string) string   { return fmt.Sprintf(topicDeviceFmt, field) }
func presenceTopic(field string) string { return fmt.Sprintf(topicPresenceFmt, field) }
func sensorTopic(field string) string   { return fmt.Sprintf(topicSensorFmt, field) }
func frozenTopic(field string) string   { return fmt.Sprintf(topicFrozenFmt, field) }
func configTopic(field string) string   { return fmt.Sprintf(topicConfigFmt, field) }
func actionTopic(name string) string    { return fmt.Sprintf(topicActionFmt, name) }
func resultTopic(field string) string   { return fmt.Sprintf(topicResultFmt, field) }

// Action names subscribed under opensleep/actions/* (spec.md §6).
const (
	ActionCalibrate         = "calibrate"
	ActionSetAwayMode       = "set_away_mode"
	ActionSetPrime          = "set_prime"
	ActionSetProfile        = "set_profile"
	ActionSetPresenceConfig = "set_presence_config"
)

// AllActions lists every action topic the dispatcher subscribes to.
func AllActions() []string {
	return []string{ActionCalibrate, ActionSetAwayMode, ActionSetPrime, ActionSetProfile, ActionSetPresenceConfig}
}
