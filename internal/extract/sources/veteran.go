package sources

import "strings"

// veteranKeywords are matched as lowercase substrings of an organization
// name. Trailing spaces and commas keep short tokens from matching inside
// longer words ("vet " vs "veterinary").
var veteranKeywords = []string{
	"veteran",
	"veterans",
	"vets",
	"vet ",
	"vfw",
	"american legion",
	"amvets",
	"dav",
	"disabled american",
	"military",
	"armed forces",
	"army",
	"navy",
	"marine",
	"marines",
	"air force",
	"coast guard",
	"national guard",
	"purple heart",
	"medal of honor",
	"gold star",
	"blue star",
	"wounded warrior",
	"fisher house",
	"uso ",
	"uso,",
	"united service organizations",
	"legion post",
	"legion aux",
	"war veteran",
	"combat veteran",
	"vietnam veteran",
	"iraq veteran",
	"afghanistan veteran",
	"korean war",
	"desert storm",
	"gulf war",
	"pow",
	"mia",
	"prisoner of war",
	"gi bill",
	"service member",
	"servicemember",
	"fallen hero",
	"fallen soldier",
	"deployment",
	"reintegration",
	"ptsd",
	"tbi",
	"mil spouse",
	"military spouse",
	"military family",
	"military families",
	"troops",
	"troop support",
	"active heroes",
	"team rubicon",
	"honor flight",
	"soldier",
	"soldiers",
	"warrior",
	"warriors",
	"heroes ",
	"for heroes",
	"4 heroes",
	"heroic",
	"battle buddy",
	"bunker labs",
	"team red white",
	"mission 22",
	"k9s for warriors",
	"soldier ride",
	"operation homefront",
	"operation heal",
	"operation mend",
	"boots on the ground",
	"22kill",
	"stop soldier suicide",
	"headstrong",
	"code of support",
	"got your 6",
	"rally point",
	"semper fi fund",
	"bob woodruff",
	"pat tillman",
	"gary sinise",
	"hire heroes",
	"american corporate partners",
}

// excludePatterns remove false positives after the keyword pass.
var excludePatterns = []string{
	"veterinary",
	"veterinarian",
	"vet clinic",
	"vet hospital",
	"animal vet",
	"pet vet",
	"salvation army",
}

// armedForcesSubsection is 501(c)(19), posts or organizations of past or
// present members of the armed forces.
const armedForcesSubsection = "19"

// IsVeteranOrg reports whether a BMF row belongs in the directory: an NTEE
// code in the W (military/veterans) major group, a 501(c)(19) subsection,
// or a name keyword match. Names matching an exclusion pattern are always
// rejected.
func IsVeteranOrg(ntee, subsection, name string) bool {
	lower := strings.ToLower(name)
	match := strings.HasPrefix(ntee, "W") ||
		strings.TrimSpace(subsection) == armedForcesSubsection ||
		containsAny(lower, veteranKeywords)
	return match && !containsAny(lower, excludePatterns)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
