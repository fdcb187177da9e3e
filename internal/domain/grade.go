package domain

// Grade is the submission grade code.
type Grade string

const (
	GradePrimary1 Grade = "primary1"
	GradePrimary2 Grade = "primary2"
	GradePrimary3 Grade = "primary3"
	GradePrimary4 Grade = "primary4"
	GradePrimary5 Grade = "primary5"
	GradePrimary6 Grade = "primary6"
	GradeJunior1  Grade = "junior1"
	GradeJunior2  Grade = "junior2"
	GradeJunior3  Grade = "junior3"
	GradeHigh1    Grade = "high1"
	GradeHigh2    Grade = "high2"
	GradeHigh3    Grade = "high3"
)

var gradeNames = map[Grade]string{
	GradePrimary1: "一年级",
	GradePrimary2: "二年级",
	GradePrimary3: "三年级",
	GradePrimary4: "四年级",
	GradePrimary5: "五年级",
	GradePrimary6: "六年级",
	GradeJunior1:  "初一",
	GradeJunior2:  "初二",
	GradeJunior3:  "初三",
	GradeHigh1:    "高一",
	GradeHigh2:    "高二",
	GradeHigh3:    "高三",
}

// Valid reports whether g is a known grade code.
func (g Grade) Valid() bool {
	_, ok := gradeNames[g]
	return ok
}

// DisplayName returns the Chinese grade name, or the raw code when unknown.
func (g Grade) DisplayName() string {
	if n, ok := gradeNames[g]; ok {
		return n
	}
	return string(g)
}
