package cache

import "strconv"

// Canonical cache keys. Every entity mutation must evict the keys it
// participates in; profile mutations evict both the id and username
// forms.

func ProfileKey(idOrUsername string) string { return "rbeam.auth.profile:" + idOrUsername }

func GroupKey(id int32) string { return "rbeam.auth.gid:" + strconv.FormatInt(int64(id), 10) }

func NotificationKey(id string) string { return "rbeam.auth.notification:" + id }

func WarningKey(id string) string { return "rbeam.auth.warning:" + id }

func IpBanKey(id string) string { return "rbeam.auth.ipban:" + id }

func IpBlockKey(id string) string { return "rbeam.auth.ipblock:" + id }

func MailKey(id string) string { return "rbeam.auth.mail:" + id }

func LabelKey(id string) string { return "rbeam.auth.label:" + id }

func ItemKey(id string) string { return "rbeam.auth.econ.item:" + id }

func TransactionKey(id string) string { return "rbeam.auth.econ.transaction:" + id }

// Counter keys. Counters are advisory: primed on miss by a table scan
// and maintained by incr/decr afterwards.

func FollowersCountKey(id string) string { return "rbeam.auth.followers_count:" + id }

func FollowingCountKey(id string) string { return "rbeam.auth.following_count:" + id }

func NotificationCountKey(recipient string) string {
	return "rbeam.auth.notification_count:" + recipient
}

func FriendsCountKey(id string) string { return "rbeam.app.friends_count:" + id }

func ResponseCountKey(id string) string { return "rbeam.app.response_count:" + id }

func GlobalQuestionCountKey(id string) string { return "rbeam.app.global_question_count:" + id }
