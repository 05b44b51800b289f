package account

// Option is a selectable label and the code the backend stores for it.
type Option struct {
	Code  int
	Label string
}

// Category groups the interest sub-categories offered during onboarding.
type Category struct {
	ID    string
	Label string
	Subs  []Option
}

// DefaultLevel is sent when the chosen level label is unknown.
const DefaultLevel = 2

// Levels are keyed lv0 through lv5.
var Levels = []struct {
	ID    string
	Label string
	Desc  string
}{
	{"lv0", "Lv 0 - 완전 초입문", "히라가나/가타카나도 모름"},
	{"lv1", "Lv 1 - 기본 인사 가능", "N5 수준"},
	{"lv2", "Lv 2 - 일상 회화 조금 가능", "N4 수준"},
	{"lv3", "Lv 3 - 생각 표현 가능", "N3 수준"},
	{"lv4", "Lv 4 - 능숙", "N2 수준"},
	{"lv5", "Lv 5 - 거의 원어민 수준", "N1 수준"},
}

var Categories = []Category{
	{ID: "anime", Label: "애니/만화", Subs: []Option{
		{101, "이세계/판타지"}, {102, "러브코미디"}, {103, "일상물"}, {104, "배틀/액션"},
		{105, "스포츠물"}, {106, "SF/로봇"}, {107, "음악/아이돌물"}, {108, "미스터리/추리"},
	}},
	{ID: "game", Label: "게임", Subs: []Option{
		{201, "JRPG"}, {202, "모바일 가챠게임"}, {203, "리듬게임"},
		{204, "FPS"}, {205, "닌텐도 게임"}, {206, "격투 게임"},
	}},
	{ID: "music", Label: "음악/Jpop/버튜버", Subs: []Option{
		{301, "Jpop"}, {302, "Vocaloid"}, {303, "애니송"}, {304, "아이돌"},
		{305, "버튜버(hololive, NIJISANJI 등)"},
	}},
	{ID: "lifestyle", Label: "오타쿠 라이프스타일", Subs: []Option{
		{401, "성지순례"}, {402, "굿즈 구매"}, {403, "피규어/프라모델"},
		{404, "코미케/행사 참가"}, {405, "애니카페 방문"}, {406, "게임센터 방문"},
	}},
	{ID: "situation", Label: "실전 오타쿠 상황", Subs: []Option{
		{501, "굿즈 예약하기"}, {502, "행사에서 인사하기"}, {503, "친구와 애니 얘기하기"},
		{504, "일본 사이트 주문하기"}, {505, "일본 여행 오타쿠 코스"}, {506, "콘서트/라이브 관람"},
	}},
}

var Purposes = []Option{
	{1, "자막 없이 애니·만화 즐기려고"},
	{2, "일본 친구와 대화하고 싶어서"},
	{3, "일본 여행에서 말하고 싶어서"},
	{4, "버튜버 방송/콘텐츠 이해하고 싶어서"},
	{5, "좋아하는 게임의 일본 서버/콘텐츠 즐기려고"},
	{6, "굿즈 구매·이벤트 참가 때문에"},
	{7, "기타"},
}

// Profile is the onboarding answer set as the learner picked it.
type Profile struct {
	Category      string   `json:"interest_category"`
	SubCategories []string `json:"interest_sub_categories"`
	Level         string   `json:"level"`
	Purposes      []string `json:"purposes"`
}

// LookupCategory finds a category by ID.
func LookupCategory(id string) (Category, bool) {
	for _, c := range Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Codes converts the profile to backend codes. Unknown labels are dropped
// and an unknown level becomes DefaultLevel.
func (p Profile) Codes() (level int, interests, purposes []int) {
	level = DefaultLevel
	for i, l := range Levels {
		if l.ID == p.Level {
			level = i
			break
		}
	}

	if cat, ok := LookupCategory(p.Category); ok {
		for _, label := range p.SubCategories {
			if code, ok := codeOf(cat.Subs, label); ok {
				interests = append(interests, code)
			}
		}
	}

	for _, label := range p.Purposes {
		if code, ok := codeOf(Purposes, label); ok {
			purposes = append(purposes, code)
		}
	}
	return level, interests, purposes
}

func codeOf(opts []Option, label string) (int, bool) {
	for _, o := range opts {
		if o.Label == label {
			return o.Code, true
		}
	}
	return 0, false
}
