package extract

import "fmt"

// systemPrompt instructs the model to answer with a single JSON object in the
// Draft shape. Unknown fields come back empty rather than invented.
const systemPrompt = `You extract discount coupon details from user text or images.
Return ONLY a single valid JSON object, no markdown, no commentary, with these keys:
{
  "code": "the coupon or voucher code, empty string if absent",
  "description": "short free-text description of the coupon",
  "value": number (face value, 0 if unreadable),
  "cost": number (amount paid, 0 if unreadable),
  "company": "the merchant name exactly as written",
  "expiration": "YYYY-MM-DD or empty string",
  "source": "where the coupon came from (sms, email, app), empty if unknown",
  "buyme_url": "any buyme link found, else empty",
  "strauss_url": "any strauss-group link found, else empty",
  "xtra_url": "any xtra link found, else empty",
  "xgiftcard_url": "any xgiftcard link found, else empty"
}
Never invent values. Use empty strings and 0 for anything you cannot read.`

func textMessages(text string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}
}

func imageMessages(imageBase64 string, note string) []chatMessage {
	userContent := []map[string]any{
		{
			"type": "image_url",
			"image_url": map[string]string{
				"url": fmt.Sprintf("data:image/jpeg;base64,%s", imageBase64),
			},
		},
	}
	if note != "" {
		userContent = append(userContent, map[string]any{"type": "text", "text": note})
	}
	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
}
