package notify

import (
	"sort"

	"SafeCircle/internal/model"
)

// SelectSupporters 按档位挑选需要联系的支持者，结果按 AlertPriority 升序
// reminder 不联系任何支持者，soft 只联系第一优先级，hard 及以上联系全部
func SelectSupporters(level model.AlertLevel, links []model.CircleLink) []model.CircleLink {
	if level.Rank() < model.AlertLevelSoft.Rank() {
		return nil
	}

	out := make([]model.CircleLink, 0, len(links))
	for _, l := range links {
		if !l.Eligible() {
			continue
		}
		if level == model.AlertLevelSoft && l.AlertPriority != 1 {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AlertPriority != out[j].AlertPriority {
			return out[i].AlertPriority < out[j].AlertPriority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Channels 某个支持者在该档位需要使用的渠道
func Channels(level model.AlertLevel, link *model.CircleLink) []model.NotificationChannel {
	rank := level.Rank()
	if rank < model.AlertLevelSoft.Rank() {
		return nil
	}

	var out []model.NotificationChannel
	if link.AlertViaPush && link.IsAppUser() {
		out = append(out, model.NotificationChannelPush)
	}
	if link.AlertViaEmail && link.Email() != "" {
		out = append(out, model.NotificationChannelEmail)
	}
	if rank >= model.AlertLevelHard.Rank() && link.AlertViaSMS && link.Phone() != "" {
		out = append(out, model.NotificationChannelSMS)
	}
	// 语音只在 hard 档外呼一次
	if level == model.AlertLevelHard && link.Phone() != "" {
		out = append(out, model.NotificationChannelVoice)
	}
	return out
}
