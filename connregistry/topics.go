package connregistry

import "fmt"

func sendByUIDTopic(uid string) string {
	return fmt.Sprintf("send_by_uid:%s", uid)
}

func publishToChannelTopic(channel string) string {
	return fmt.Sprintf("publish_to_channel:%s", channel)
}

func privateMessageFromLocationTopic(loc, uid string) string {
	return fmt.Sprintf("private_message_from_location:%s:%s", loc, uid)
}

func publicMessageFromLocationTopic(loc string) string {
	return fmt.Sprintf("public_message_from_location:%s", loc)
}
