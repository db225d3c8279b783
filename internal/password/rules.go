package password

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

func checkLength(policy Policy, password string, v *violations) {
	n := len([]rune(password))
	if policy.MinLength > 0 && n < policy.MinLength {
		v.addf("must be at least %d characters", policy.MinLength)
	}
	if policy.MaxLength > 0 && n > policy.MaxLength {
		v.addf("must be no longer than %d characters", policy.MaxLength)
	}
}

func checkCharClasses(policy Policy, password string, v *violations) {
	var alpha, numeric, upper, lower, special int
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			alpha++
			if unicode.IsUpper(r) {
				upper++
			} else {
				lower++
			}
		case unicode.IsDigit(r):
			numeric++
		default:
			special++
		}
	}
	if policy.MinAlpha > 0 && alpha < policy.MinAlpha {
		v.addf("must contain at least %d letters", policy.MinAlpha)
	}
	if policy.MinNumeric > 0 && numeric < policy.MinNumeric {
		v.addf("must contain at least %d digits", policy.MinNumeric)
	}
	if policy.MinUpper > 0 && upper < policy.MinUpper {
		v.addf("must contain at least %d uppercase letters", policy.MinUpper)
	}
	if policy.MinLower > 0 && lower < policy.MinLower {
		v.addf("must contain at least %d lowercase letters", policy.MinLower)
	}
	if policy.MinSpecial > 0 && special < policy.MinSpecial {
		v.addf("must contain at least %d special characters", policy.MinSpecial)
	}
	if policy.MinCharTypes > 0 {
		types := 0
		for _, n := range []int{alpha, numeric, special} {
			if n > 0 {
				types++
			}
		}
		if upper > 0 && lower > 0 {
			types++
		}
		if types < policy.MinCharTypes {
			v.addf("must mix at least %d character types", policy.MinCharTypes)
		}
	}
}

func checkRepeats(policy Policy, password string, v *violations) {
	if policy.MaxRepeatedChars <= 0 {
		return
	}
	run, longest := 0, 0
	var prev rune
	for i, r := range password {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	if longest > policy.MaxRepeatedChars {
		v.addf("must not repeat a character more than %d times in a row", policy.MaxRepeatedChars)
	}
}

func checkUnique(policy Policy, password string, v *violations) {
	if policy.MinUniqueChars <= 0 {
		return
	}
	seen := make(map[rune]struct{})
	for _, r := range password {
		seen[r] = struct{}{}
	}
	if len(seen) < policy.MinUniqueChars {
		v.addf("must contain at least %d distinct characters", policy.MinUniqueChars)
	}
}

func checkHistory(policy Policy, password string, subject Subject, v *violations) {
	if policy.HistoryDepth <= 0 {
		return
	}
	hashes := subject.HistoryHashes
	if len(hashes) > policy.HistoryDepth {
		hashes = hashes[:policy.HistoryDepth]
	}
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
			v.addf("must not reuse any of the previous %d passwords", policy.HistoryDepth)
			return
		}
	}
}

func checkDictionary(policy Policy, password string, v *violations) {
	lowered := strings.ToLower(password)
	for _, word := range policy.Dictionary {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if strings.Contains(lowered, word) {
			v.addf("must not contain the word %q", word)
		}
	}
}

func checkAttributes(policy Policy, password string, subject Subject, v *violations) {
	lowered := strings.ToLower(password)
	if subject.Identity != nil {
		for _, name := range policy.IdentityAttributes {
			for _, value := range attributeValues(subject.Identity.Attribute(name)) {
				if containsValue(lowered, value) {
					v.addf("must not contain the %s attribute value", name)
				}
			}
		}
	}
	if policy.CheckAccountAttributes {
		for _, link := range subject.Links {
			if containsValue(lowered, link.NativeIdentity) {
				v.addf("must not contain the %s account name", link.Application)
			}
		}
	}
}

func containsValue(loweredPassword, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return len(value) >= 3 && strings.Contains(loweredPassword, value)
}

func attributeValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	default:
		return nil
	}
}

func checkChangeDuration(policy Policy, subject Subject, v *violations) {
	if policy.MinChangeDuration <= 0 || subject.LastChange == nil {
		return
	}
	if time.Since(*subject.LastChange) < policy.MinChangeDuration {
		v.addf("must not be changed again within %s of the last change", policy.MinChangeDuration)
	}
}
