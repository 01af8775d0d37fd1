package scanning

// transcriptionPrompt is shared by the LLM providers. The models only
// transcribe; field extraction happens downstream on the returned text.
const transcriptionPrompt = `You are transcribing a photographed retail receipt. The receipt may be in Vietnamese, English, or both.

Copy every piece of text you can read, top to bottom, keeping the original line breaks:
- Keep Vietnamese diacritics exactly as printed (e.g. "Tổng cộng", "Thành tiền").
- Keep numbers exactly as printed, including thousands separators and currency marks (e.g. "1.250.000đ", "45,000 VND").
- Do not translate, summarize, correct or reorder anything.
- Write one receipt line per output line.

Also estimate how legible the receipt was, from 0.0 (unreadable) to 1.0 (perfectly clear).

Return ONLY valid JSON in this exact format:
{
  "text": "line one\nline two",
  "confidence": 0.0
}

Do not include any text before or after the JSON. Do not use markdown code blocks.`

const transcriptionSystemPrompt = "You are an OCR engine for retail receipts. You copy text exactly as printed and never invent content."
