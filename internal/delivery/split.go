package delivery

import "strings"

// SplitMessage breaks a long message into chunks of at most maxLength,
// preferring paragraph boundaries. A single paragraph longer than maxLength
// is force-split.
func SplitMessage(message string, maxLength int) []string {
	if len(message) <= maxLength {
		return []string{message}
	}

	var chunks []string
	var current strings.Builder

	for _, para := range strings.Split(message, "\n\n") {
		if current.Len()+len(para)+2 <= maxLength {
			current.WriteString(para)
			current.WriteString("\n\n")
			continue
		}

		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if len(para) > maxLength {
			for i := 0; i < len(para); i += maxLength {
				end := i + maxLength
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, para[i:end])
			}
			continue
		}

		current.WriteString(para)
		current.WriteString("\n\n")
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
