package collaborators

import (
	"context"
	"regexp"
	"strings"
)

// rule is one regex-keyed NLU rule, matching the tiering of
// original_source/server/app/core/nlu.py's _init_rules: a flat ordered list
// of (pattern, intent, slot-extractor) triples, first match wins. The LLM
// fallback tier described there is out of scope here — spec §1 excludes NLU
// accuracy/training from this module's concerns, so RuleNLU only ever
// implements the deterministic regex tier.
type rule struct {
	intent  Intent
	pattern *regexp.Regexp
	slot    string // name of the capture-group slot, "" if none
}

// RuleNLU is a regex-rule-based NLU, grounded on the original's rule tier.
// Rules are tried in order; the first match determines the intent. Text
// that matches no rule yields IntentChat with confidence 0.3; only empty
// text yields IntentUnknown with confidence 0.
type RuleNLU struct {
	rules []rule
}

func NewRuleNLU() *RuleNLU {
	return &RuleNLU{rules: defaultRules()}
}

func defaultRules() []rule {
	return []rule{
		{IntentPlayStoryByName, regexp.MustCompile(`播放故事《(.+)》|放一个叫(.+?)的故事`), "name"},
		{IntentPlayStoryCategory, regexp.MustCompile(`(睡前|成语|童话|历史)故事`), "category"},
		{IntentPlayStory, regexp.MustCompile(`讲.*故事|听故事|播放故事|放个故事|说个故事`), ""},
		{IntentPlayMusicByArtist, regexp.MustCompile(`播放(.+)的歌|放(.+)唱的歌`), "artist"},
		{IntentPlayMusicByName, regexp.MustCompile(`播放《(.+)》|放一首(.+)`), "name"},
		{IntentPlayMusicCategory, regexp.MustCompile(`(儿歌|古典|摇滚|流行)音乐`), "category"},
		{IntentPlayMusic, regexp.MustCompile(`播放音乐|放首歌|听歌|放音乐|唱歌`), ""},
		{IntentControlPause, regexp.MustCompile(`暂停|停一下`), ""},
		{IntentControlResume, regexp.MustCompile(`继续播放|继续|恢复播放`), ""},
		{IntentControlStop, regexp.MustCompile(`停止|关闭播放|别放了`), ""},
		{IntentControlNext, regexp.MustCompile(`下一[个首]|换一[个首]|切歌`), ""},
		{IntentControlPrevious, regexp.MustCompile(`上一[个首]|换回去`), ""},
		{IntentControlVolumeUp, regexp.MustCompile(`声音大一点|调大音量|大声点`), ""},
		{IntentControlVolumeDown, regexp.MustCompile(`声音小一点|调小音量|小声点`), ""},
		{IntentEnglishWord, regexp.MustCompile(`(.+)用英语怎么说|英语单词(.+)`), "word"},
		{IntentEnglishFollow, regexp.MustCompile(`跟我读|跟读`), ""},
		{IntentEnglishLearn, regexp.MustCompile(`学英语|英语学习|练习英语`), ""},
		{IntentDeleteContent, regexp.MustCompile(`删除|删掉|不要这个`), ""},
		{IntentSystemTime, regexp.MustCompile(`几点了|现在时间|几点钟`), ""},
		{IntentSystemWeather, regexp.MustCompile(`天气怎么样|今天天气|会不会下雨`), ""},
	}
}

// Recognize applies the rule list in order. Unmatched text falls through to
// IntentChat with low confidence — free-form conversation is the catch-all,
// matching the original's default handler assignment.
func (n *RuleNLU) Recognize(ctx context.Context, text string) (NLUResult, error) {
	trimmed := strings.TrimSpace(text)
	for _, r := range n.rules {
		m := r.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		slots := map[string]string{}
		if r.slot != "" {
			for _, g := range m[1:] {
				if g != "" {
					slots[r.slot] = g
					break
				}
			}
		}
		return NLUResult{Intent: r.intent, Slots: slots, Confidence: 0.9, RawText: text}, nil
	}
	if trimmed == "" {
		return NLUResult{Intent: IntentUnknown, Confidence: 0, RawText: text}, nil
	}
	return NLUResult{Intent: IntentChat, Confidence: 0.3, RawText: text}, nil
}
