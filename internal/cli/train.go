package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

func init() {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on the enrollment history and report it",
		Long:  "Build the global training set and fit the classifier. With --student, the rule-model scalars reflect that student.",
		Run:   runTrain,
	}
	cmd.Flags().StringP("student", "s", "", "Student ID for the rule-model scalars")

	RootCmd.AddCommand(cmd)
}

type trainReport struct {
	Kind      string `json:"kind"`
	Rows      int    `json:"rows"`
	Positives int    `json:"positives"`
	Trees     int    `json:"trees,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func runTrain(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")

	a := mustOpenApp(cmd)
	defer a.Close()
	ctx := cmd.Context()

	profile := model.StudentProfile{}
	required := skillset.Set{}
	if student != "" {
		profile = a.agg.Profile(ctx, student)
		if sel, ok := a.agg.SelectedCompany(ctx, student); ok {
			required = a.agg.CompanyRequirement(ctx, sel.CompanyID).SkillNames()
		}
	}

	ts := a.trainer.TrainingSet(ctx)
	rep := trainReport{Rows: len(ts.Rows)}
	for _, r := range ts.Rows {
		rep.Positives += r.Label
	}

	m := a.trainer.TrainOn(ctx, ts, profile, required)
	rep.Kind = string(m.Kind)
	rep.Reason = m.Reason
	if m.IsClassifier() {
		rep.Trees = len(m.Classifier.Forest.Trees)
	}
	printJSON(rep)
}
