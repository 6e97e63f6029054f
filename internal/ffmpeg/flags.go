package ffmpeg

import (
	"regexp"
	"strings"
)

// FlagValidation is the verdict on operator-supplied FFmpeg arguments.
// The config API returns it alongside a 422 when Valid is false.
type FlagValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// dangerousPatterns reject shell metacharacters. Arguments go straight to
// exec without a shell, but an operator pasting shell syntax has copied a
// command line that will not mean what they think.
var dangerousPatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`\$\(`), "command substitution $(...)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$\{`), "variable expansion ${...}"},
	{regexp.MustCompile(`;`), "command separator (;)"},
	{regexp.MustCompile(`&&`), "command chaining (&&)"},
	{regexp.MustCompile(`>`), "output redirection (>)"},
	{regexp.MustCompile(`<`), "input redirection (<)"},
	{regexp.MustCompile(`\|`), "pipe (|)"},
}

// blockedFlags never belong in extra args; each is owned by the pipeline.
var blockedFlags = map[string]string{
	"-i":                  "input is controlled by the playout loop",
	"-y":                  "output handling is controlled by the pipeline",
	"-n":                  "output handling is controlled by the pipeline",
	"-ss":                 "seeking is controlled by the playhead",
	"-filter_script":      "could load arbitrary script files",
	"-filter_script:v":    "could load arbitrary script files",
	"-filter_script:a":    "could load arbitrary script files",
	"-protocol_whitelist": "could enable dangerous protocols",
	"-protocol_blacklist": "could disable required protocols",
	"-dump":               "debugging flag that can expose credentials",
	"-hex":                "debugging flag that can expose credentials",
}

// warnFlags are allowed but usually a mistake.
var warnFlags = map[string]string{
	"-f":       "input format is normally auto-detected",
	"-re":      "real-time pacing is already applied to file sources",
	"-c:v":     "video codec is decided per item by the pipeline",
	"-c:a":     "audio codec is decided per item by the pipeline",
	"-vcodec":  "video codec is decided per item by the pipeline",
	"-acodec":  "audio codec is decided per item by the pipeline",
	"-b:v":     "prefer the video_bitrate setting",
	"-b:a":     "prefer the audio_bitrate setting",
	"-threads": "thread count is left to FFmpeg defaults",
}

// ValidateExtraArgs checks the ffmpeg.extra_input_args config value.
func ValidateExtraArgs(args []string) FlagValidation {
	result := FlagValidation{Valid: true}

	for _, arg := range args {
		for _, dp := range dangerousPatterns {
			if dp.pattern.MatchString(arg) {
				result.Valid = false
				result.Errors = append(result.Errors, arg+": "+dp.message)
			}
		}
		if reason, blocked := blockedFlags[arg]; blocked {
			result.Valid = false
			result.Errors = append(result.Errors, arg+" is not allowed: "+reason)
		}
		if reason, warned := warnFlags[arg]; warned {
			result.Warnings = append(result.Warnings, arg+": "+reason)
		}
	}

	if err := checkQuoteBalance(strings.Join(args, " ")); err != "" {
		result.Valid = false
		result.Errors = append(result.Errors, err)
	}

	return result
}

func checkQuoteBalance(s string) string {
	singleQuotes := 0
	doubleQuotes := 0
	escaped := false

	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '\'':
			singleQuotes++
		case '"':
			doubleQuotes++
		}
	}

	if singleQuotes%2 != 0 {
		return "unbalanced single quotes"
	}
	if doubleQuotes%2 != 0 {
		return "unbalanced double quotes"
	}
	return ""
}
