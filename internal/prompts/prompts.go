// Package prompts holds the prompt templates sent to the extraction and
// storyboard models. Templates are plain fmt strings; callers fill them via
// the builder functions so the argument order stays in one place.
package prompts

import "fmt"

const extractionTemplate = `你是一位专业的影视制作资产分析师。请分析以下剧本（第%d集），提取其中的角色、道具和场景资产。

要求：
1. 角色：提取姓名、外貌描述、性别、年龄段、音色特征、角色定位（男主角/女主角/配角/反派等）、重要程度（1-10）
2. 道具：提取名称、外观描述、重要程度（1-10）
3. 场景：提取名称、环境描述、重要程度（1-10）
4. 只保留重要程度不低于5的资产，一次性路人和无关紧要的物件不要输出
5. 描述尽量详细，后续将用于生成画面

请严格按照以下JSON格式输出，不要附加任何其他文字：
{
  "characters": [
    {"name": "角色名", "description": "外貌描述", "gender": "男/女", "age": "年龄段", "voice": "音色特征", "role": "角色定位", "importance": 8}
  ],
  "props": [
    {"name": "道具名", "description": "外观描述", "importance": 6}
  ],
  "scenes": [
    {"name": "场景名", "description": "环境描述", "importance": 7}
  ]
}

剧本内容：
%s`

const optimizationContext = `

本次为优化重提。用户反馈：
%s

当前已有的资产库如下，请在保留合理资产的基础上按反馈调整：
%s`

// Extraction builds the asset extraction prompt for one episode script.
// feedback and currentAssets are empty on the initial run; on an
// optimization run they carry the user's complaint and the current library
// as JSON.
func Extraction(episodeNumber int, script, feedback, currentAssets string) string {
	prompt := fmt.Sprintf(extractionTemplate, episodeNumber, script)
	if feedback != "" {
		prompt += fmt.Sprintf(optimizationContext, feedback, currentAssets)
	}
	return prompt
}

const storyboardTemplate = `你是一位专业的分镜师。请基于以下剧本和资产库，将剧本拆解为%d到%d个分镜镜头。

要求：
1. 每个镜头包含：镜头序号、说话角色、情绪、情绪强度（低/中/高）、台词、画面融合提示词、运动提示词
2. 画面中出现的角色、道具、场景必须使用资产库中的名称，列在 asset_mapping 中
3. 融合提示词描述静态画面构图，运动提示词描述镜头内的动态
4. 按剧情顺序编号，从1开始连续

请严格按照以下JSON格式输出，不要附加任何其他文字：
{
  "shots": [
    {
      "shot_number": 1,
      "voice_character": "角色名",
      "emotion": "平静",
      "intensity": "中",
      "dialogue": "台词内容",
      "fusion_prompt": "画面描述",
      "motion_prompt": "运动描述",
      "asset_mapping": ["角色名", "道具名", "场景名"]
    }
  ]
}

资产库：
%s

剧本内容：
%s`

// Storyboard builds the shot breakdown prompt. assetLibrary is the active
// snapshot's grouped JSON payload.
func Storyboard(minShots, maxShots int, assetLibrary, script string) string {
	return fmt.Sprintf(storyboardTemplate, minShots, maxShots, assetLibrary, script)
}

// SystemRole is the system message shared by all chat-style vendors.
const SystemRole = "你是一个专业的影视制作助手，所有输出必须是合法的JSON。"

// TrimScript bounds very long scripts so the request stays inside the model
// context window. Truncation cuts at a rune boundary.
func TrimScript(script string, maxRunes int) string {
	if maxRunes <= 0 {
		return script
	}
	runes := []rune(script)
	if len(runes) <= maxRunes {
		return script
	}
	return string(runes[:maxRunes]) + "\n（剧本过长，已截断）"
}
