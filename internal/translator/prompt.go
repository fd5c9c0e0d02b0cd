package translator

import "fmt"

const (
	// DetailedPrompt is the default instruction for chat photos.
	DetailedPrompt = "Please identify all Chinese characters and words in this image and provide their pinyin " +
		"pronunciation with tone marks. Format each as: Characters (pinyin). List them clearly in reading order, " +
		"left to right and top to bottom; when the text is laid out in columns, say where each new column begins. " +
		"Include any numbers that appear. If no Chinese characters are found, please say so."

	// ConcisePrompt asks for characters and pinyin only.
	ConcisePrompt = "Provide the pinyin pronunciation, with tone marks, for all Chinese characters in this image. " +
		"Only provide characters and pinyin, don't provide additional commentary or explanations. " +
		"Detail when translations from new columns begin. Include numbers if there are any. " +
		"If no Chinese characters are found, please say so."
)

// PromptFor returns the instruction text for a preset name.
func PromptFor(preset, custom string) (string, error) {
	switch preset {
	case "", "detailed":
		return DetailedPrompt, nil
	case "concise":
		return ConcisePrompt, nil
	case "custom":
		if custom == "" {
			return "", fmt.Errorf("custom prompt preset with empty text")
		}
		return custom, nil
	}
	return "", fmt.Errorf("unknown prompt preset %q", preset)
}
